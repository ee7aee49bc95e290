package grafikeye

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nerrad567/grafikeye-bridge/internal/infrastructure/config"
)

// sceneCodePattern matches a single scene code as it appears in a status reply.
var sceneCodePattern = regexp.MustCompile(`^[0-9A-FGHMRL]$`)

// ControllerConfig builds a controller Config from the grafik_eye section.
func ControllerConfig(ge config.GrafikEyeConfig, logger Logger) Config {
	return Config{
		Host:           ge.Host,
		Port:           ge.Port,
		Login:          ge.Login,
		ConnectTimeout: ge.GetConnectTimeout(),
		LoginTimeout:   ge.GetLoginTimeout(),
		ReadTimeout:    ge.GetReadTimeout(),
		PollInterval:   ge.GetPollInterval(),
		Logger:         logger,
	}
}

// SceneCatalog maps configured scene names to wire codes and back.
type SceneCatalog struct {
	byName map[string]Scene
	names  map[Scene]string
}

// NewSceneCatalog builds a catalog from the configured scenes.
// When two names share a code, the first one wins for reverse lookups.
func NewSceneCatalog(scenes []config.SceneConfig) *SceneCatalog {
	c := &SceneCatalog{
		byName: make(map[string]Scene, len(scenes)),
		names:  make(map[Scene]string, len(scenes)),
	}
	for _, s := range scenes {
		code := Scene(s.Code)
		c.byName[strings.ToLower(s.Name)] = code
		if _, exists := c.names[code]; !exists {
			c.names[code] = s.Name
		}
	}
	return c
}

// Resolve accepts a scene name (case-insensitive) or a raw scene code.
// Unconfigured codes are accepted if they are a single status character.
func (c *SceneCatalog) Resolve(nameOrCode string) (Scene, error) {
	if nameOrCode == "" {
		return "", fmt.Errorf("%w: scene is required", ErrInvalidScene)
	}
	if code, ok := c.byName[strings.ToLower(nameOrCode)]; ok {
		return code, nil
	}
	if _, ok := c.names[Scene(nameOrCode)]; ok {
		return Scene(nameOrCode), nil
	}
	if sceneCodePattern.MatchString(nameOrCode) {
		return Scene(nameOrCode), nil
	}
	return "", fmt.Errorf("%w: unknown scene %q", ErrInvalidScene, nameOrCode)
}

// Name returns the configured name of scene, or "" if it has none.
func (c *SceneCatalog) Name(scene Scene) string {
	return c.names[scene]
}

// unitNames returns the configured control units and their names. With no
// units configured, all eight are exposed under generated names.
func unitNames(units []config.ControlUnitConfig) map[ControlUnit]string {
	out := make(map[ControlUnit]string, controlUnitCount)
	if len(units) == 0 {
		for u := MinControlUnit; u <= MaxControlUnit; u++ {
			out[u] = "Control Unit " + u.String()
		}
		return out
	}
	for _, cu := range units {
		u := ControlUnit(cu.ID)
		if !u.Valid() {
			continue
		}
		name := cu.Name
		if name == "" {
			name = "Control Unit " + u.String()
		}
		out[u] = name
	}
	return out
}
