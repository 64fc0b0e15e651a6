// Package factory provides the generic registry behind configurable modules:
// telescopes named by a trigger and metrics sinks named by the service
// configuration. A module is described by a type string and a map of raw
// settings; its factory decodes the settings into a typed struct and returns
// the implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[Telescope]()
//	reg.Register("mwa_vcs", func(conf map[string]any) (Telescope, error) {
//	    var c struct {
//	        ProjectID string `json:"project_id"`
//	        SecureKey string `json:"secure_key"`
//	    }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newVCS(c.ProjectID, c.SecureKey), nil
//	})
//	tel, err := reg.Create(factory.ModuleConfig{Type: "mwa_vcs", Conf: map[string]any{"project_id": "G0055"}})
package factory
