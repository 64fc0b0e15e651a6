package telescope

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/sky"
)

// Telescope configuration types.
const (
	TypeMWACorrelator = "mwa_correlator"
	TypeMWAVCS        = "mwa_vcs"
	TypeMWAGW         = "mwa_gw"
	TypeATCA          = "atca"
)

const (
	DefaultMWAURL  = "http://mro.mwa128t.org"
	DefaultATCAURL = "https://www.narrabri.atnf.csiro.au/cgi-bin/obstools/rapid_response/rapid_response_service.py"
	DefaultTimeout = 30 * time.Second
)

// Env holds what the telescope implementations share.
type Env struct {
	Client  *http.Client
	MWAURL  string
	ATCAURL string
	// SweetSpotsPath locates the MWA sweet spot database used by mwa_gw.
	SweetSpotsPath string
}

func (e Env) withDefaults() Env {
	if e.Client == nil {
		e.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if e.MWAURL == "" {
		e.MWAURL = DefaultMWAURL
	}
	if e.ATCAURL == "" {
		e.ATCAURL = DefaultATCAURL
	}
	return e
}

// Registry builds telescopes from trigger configuration.
type Registry struct {
	env         Env
	factories   *factory.Registry[Telescope]
	observatory map[string]model.Observatory

	spotsOnce sync.Once
	spots     sky.SweetSpots
	spotsErr  error
}

// NewRegistry returns a registry with every known telescope type.
func NewRegistry(env Env) *Registry {
	r := &Registry{
		env:         env.withDefaults(),
		factories:   factory.NewRegistry[Telescope](),
		observatory: make(map[string]model.Observatory),
	}
	r.mustRegister(TypeMWACorrelator, model.MWA, func(conf map[string]any) (Telescope, error) {
		return newMWA(r.env, conf, "/trigger/triggerobs")
	})
	r.mustRegister(TypeMWAVCS, model.MWA, func(conf map[string]any) (Telescope, error) {
		return newMWA(r.env, conf, "/trigger/triggervcs")
	})
	r.mustRegister(TypeMWAGW, model.MWA, func(conf map[string]any) (Telescope, error) {
		return newMWAGW(r.env, conf, r.sweetSpots)
	})
	r.mustRegister(TypeATCA, model.ATCA, func(conf map[string]any) (Telescope, error) {
		return newATCA(r.env, conf)
	})
	return r
}

func (r *Registry) mustRegister(name string, o model.Observatory, f factory.Factory[Telescope]) {
	if err := r.Register(name, o, f); err != nil {
		panic(err)
	}
}

// Register adds a telescope type for observatory o.
func (r *Registry) Register(name string, o model.Observatory, f factory.Factory[Telescope]) error {
	if err := r.factories.Register(name, f); err != nil {
		return err
	}
	r.observatory[name] = o
	return nil
}

// Create instantiates the telescope described by cfg. Unknown types wrap
// factory.ErrUnknownType.
func (r *Registry) Create(cfg factory.ModuleConfig) (Telescope, error) {
	return r.factories.Create(cfg)
}

// Types lists the configurable telescope types.
func (r *Registry) Types() []string {
	return r.factories.Types()
}

// Validate checks cfg can be turned into a telescope.
func (r *Registry) Validate(cfg factory.ModuleConfig) error {
	_, err := r.Create(cfg)
	return err
}

// Observatory returns the observatory of a telescope type, or "" if unknown.
func (r *Registry) Observatory(typ string) model.Observatory {
	return r.observatory[typ]
}

func (r *Registry) sweetSpots() (sky.SweetSpots, error) {
	r.spotsOnce.Do(func() {
		if r.env.SweetSpotsPath == "" {
			r.spotsErr = fmt.Errorf("no sweet spot database configured")
			return
		}
		r.spots, r.spotsErr = sky.LoadSweetSpots(r.env.SweetSpotsPath)
	})
	return r.spots, r.spotsErr
}
