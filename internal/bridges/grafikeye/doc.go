// Package grafikeye implements a client for the Lutron Grafik Eye 3000
// telnet control protocol and an MQTT bridge built on top of it.
//
// # Protocol
//
// The controller speaks a line-oriented text protocol terminated by "\r\n":
//
//	client → unit   <login token>       sent after the "login: " prompt
//	client → unit   A<scene><units...>  select a scene on one or more control units
//	client → unit   G                   request the scene of every control unit
//	unit → client   :ss 000MMMMM        status reply, position i = control unit i+1
//
// Up to eight control units (1..8) share one link. A scene is an opaque code
// drawn from 0-9, A, F, G, H, M, R and L.
//
// # Architecture
//
//	Session     raw TCP stream, telnet option refusal, login, line framing
//	Controller  connection state, scene commands, 500ms status polling,
//	            per-unit handler dispatch
//	Bridge      MQTT command/state/ack/request topics, health, reconnect
//
// The controller never retries on its own. A broken link demotes it to
// StateFailed and polling stops. The bridge may run a reconnect supervisor
// when grafik_eye.reconnect.enabled is set.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Writes to the link are
// serialised by a single lock so a scene command and a status poll never
// interleave mid-line. Scene handlers run on the polling goroutine.
//
// # Usage
//
//	ctrl := grafikeye.NewController(grafikeye.Config{Host: "192.168.1.50"})
//	ctrl.RegisterSceneCallback(1, grafikeye.SceneHandlerFunc(func(s grafikeye.Scene) {
//	    fmt.Println("unit 1 is now on scene", s)
//	}))
//	if err := ctrl.Connect(ctx); err != nil {
//	    return err
//	}
//	defer ctrl.Close()
//
//	ctrl.SelectScene("3", 1, 2, 5) // writes "A3125\r\n"
package grafikeye
