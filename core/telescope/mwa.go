package telescope

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/model"
)

// calibrationTime is added to every MWA request for the calibrator scan.
const calibrationTime = 120 * time.Second

// MWAConfig is shared by the MWA telescope types.
type MWAConfig struct {
	ProjectID           string  `json:"project_id"`
	SecureKey           string  `json:"secure_key"`
	TileSet             string  `json:"tileset"`
	Frequency           string  `json:"frequency"`
	FrequencyResolution float64 `json:"frequency_resolution"`
	TimeResolution      float64 `json:"time_resolution"`
	Exposure            float64 `json:"exposure"`
	NObs                int     `json:"nobs"`
	RepointingThreshold float64 `json:"repointing_threshold"`
	MaximumWindow       int     `json:"maximum_window"`
}

var tileSets = map[string]bool{
	"phase_one":   true,
	"p1+hexes":    true,
	"p1+solar":    true,
	"p2_compact":  true,
	"p2_extended": true,
	"256T":        true,
}

// SetDefaults applies the MWA defaults.
func (c *MWAConfig) SetDefaults() {
	if c.FrequencyResolution == 0 {
		c.FrequencyResolution = 10
	}
	if c.TimeResolution == 0 {
		c.TimeResolution = 0.5
	}
	if c.Exposure == 0 {
		c.Exposure = 120
	}
	if c.NObs == 0 {
		c.NObs = 15
	}
}

// Validate checks required fields.
func (c MWAConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("mwa: project_id is required")
	}
	if c.SecureKey == "" {
		return fmt.Errorf("mwa: secure_key is required")
	}
	if len(c.FrequencySpecs()) == 0 {
		return fmt.Errorf("mwa: frequency is required")
	}
	if c.NObs < 0 || c.Exposure < 0 {
		return fmt.Errorf("mwa: nobs and exposure must be positive")
	}
	return nil
}

// FrequencySpecs splits the configured frequency list.
func (c MWAConfig) FrequencySpecs() []string {
	return strings.Fields(c.Frequency)
}

// Duration is the time the array is busy with one request.
func (c MWAConfig) Duration() time.Duration {
	secs := float64(c.NObs) * float64(len(c.FrequencySpecs())) * c.Exposure
	return time.Duration(secs*float64(time.Second)) + calibrationTime
}

func (c MWAConfig) baseParams(active bool) url.Values {
	freqs, _ := json.Marshal(c.FrequencySpecs())
	v := url.Values{}
	v.Set("project_id", c.ProjectID)
	v.Set("secure_key", c.SecureKey)
	v.Set("calibrator", pyBool(true))
	v.Set("avoidsun", pyBool(true))
	v.Set("freqspecs", string(freqs))
	v.Set("pretend", pyBool(!active))
	return v
}

// mwaPointed is the MWA correlator or VCS mode pointed at the event's
// coordinates.
type mwaPointed struct {
	MWAConfig `json:",squash"`
	RAPath    string `json:"ra_path"`
	DecPath   string `json:"dec_path"`

	client   *http.Client
	endpoint string
}

func newMWA(env Env, conf map[string]any, path string) (Telescope, error) {
	m := &mwaPointed{client: env.Client, endpoint: strings.TrimRight(env.MWAURL, "/") + path}
	if err := factory.Decode(conf, m); err != nil {
		return nil, fmt.Errorf("mwa: decode config: %w", err)
	}
	m.SetDefaults()
	if err := m.MWAConfig.Validate(); err != nil {
		return nil, err
	}
	if m.RAPath == "" || m.DecPath == "" {
		return nil, fmt.Errorf("mwa: ra_path and dec_path are required")
	}
	if m.TileSet != "" && !tileSets[m.TileSet] {
		return nil, fmt.Errorf("mwa: unknown tileset %q", m.TileSet)
	}
	return m, nil
}

func (m *mwaPointed) Observatory() model.Observatory { return model.MWA }

func (m *mwaPointed) Prepare(in Input, log *Log) (Request, error) {
	ra, err := in.Float(m.RAPath)
	if err != nil {
		log.Add("An error occurred attempting to parse RA,Dec values:", err)
		return Request{}, err
	}
	dec, err := in.Float(m.DecPath)
	if err != nil {
		log.Add("An error occurred attempting to parse RA,Dec values:", err)
		return Request{}, err
	}
	params := m.baseParams(in.Trigger.Active)
	params.Set("ra", strconv.FormatFloat(ra, 'f', -1, 64))
	params.Set("dec", strconv.FormatFloat(dec, 'f', -1, 64))
	params.Set("tileset", m.TileSet)
	log.AddJSON("API params", params)
	return Request{Params: params, Duration: m.Duration()}, nil
}

func (m *mwaPointed) Submit(ctx context.Context, req Request, log *Log) error {
	return submitMWA(ctx, m.client, m.endpoint, req, log)
}

func submitMWA(ctx context.Context, client *http.Client, endpoint string, req Request, log *Log) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+req.Params.Encode(), nil)
	if err != nil {
		return &DispatchError{Kind: KindRequest, Err: err}
	}
	body, err := do(client, httpReq)
	if err != nil {
		log.Add("An error occurred making the HTTP request to the MWA API", err)
		return &DispatchError{Kind: KindRequest, Err: err}
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Add("Raw API response", body)
		log.Add("The MWA API returned invalid JSON", err)
		return fmt.Errorf("mwa: invalid response: %w", err)
	}
	log.AddJSON("Pretty API response", resp)
	if ok, _ := resp["success"].(bool); !ok {
		return fail(KindRejection, "mwa: request was not successful")
	}
	return nil
}

// do sends req and returns the body of a 2xx response.
func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return body, nil
}
