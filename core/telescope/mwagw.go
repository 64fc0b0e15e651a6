package telescope

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kilianp07/tracet/core/conditions"
	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/sky"
)

var gwSubarrays = []string{"all_ne", "all_nw", "all_se", "all_sw"}

// mwaGW points the MWA subarrays at the most probable regions of a
// gravitational wave skymap.
type mwaGW struct {
	MWAConfig  `json:",squash"`
	SkymapPath string `json:"skymap_path"`

	client     *http.Client
	endpoint   string
	sweetSpots func() (sky.SweetSpots, error)
}

func newMWAGW(env Env, conf map[string]any, spots func() (sky.SweetSpots, error)) (Telescope, error) {
	m := &mwaGW{
		client:     env.Client,
		endpoint:   strings.TrimRight(env.MWAURL, "/") + "/trigger/triggervcs",
		sweetSpots: spots,
	}
	if err := factory.Decode(conf, m); err != nil {
		return nil, fmt.Errorf("mwa_gw: decode config: %w", err)
	}
	m.SetDefaults()
	if err := m.MWAConfig.Validate(); err != nil {
		return nil, err
	}
	if m.SkymapPath == "" {
		return nil, fmt.Errorf("mwa_gw: skymap_path is required")
	}
	return m, nil
}

func (m *mwaGW) Observatory() model.Observatory { return model.MWA }

func (m *mwaGW) Prepare(in Input, log *Log) (Request, error) {
	raw, ok := in.QueryLatest(m.SkymapPath)
	if !ok {
		err := fmt.Errorf("no notice provides %s", m.SkymapPath)
		log.Add("An error occurred attempting to read the skymap", err)
		return Request{}, err
	}
	cells, err := sky.DecodeSkymap(conditions.Stringify(raw))
	if err != nil {
		log.Add("An error occurred attempting to read the skymap", err)
		return Request{}, err
	}

	spots, err := m.sweetSpots()
	if err != nil {
		log.Add("An error occurred reading or parsing the MWA sweet spots database", err)
		return Request{}, err
	}
	targets, err := sky.Targets(cells, sky.MWASite, in.Now)
	if err != nil {
		log.Add("An error occurred attempting to generate 4 sweetspot pointings", err)
		return Request{}, err
	}
	pointings := spots.SelectPointings(targets)
	if len(pointings) == 0 {
		err := fmt.Errorf("no sweet spot pointing selected")
		log.Add("An error occurred attempting to generate 4 sweetspot pointings", err)
		return Request{}, err
	}
	var b strings.Builder
	for _, p := range pointings {
		fmt.Fprintf(&b, "sweet spot %d: az=%.4f alt=%.4f\n", p.ID, p.Dir.Az, p.Dir.Alt)
	}
	log.Add("Selected pointings", b.String())

	params := m.baseParams(in.Trigger.Active)
	for _, p := range pointings {
		params.Add("az", strconv.FormatFloat(p.Dir.Az, 'f', -1, 64))
		params.Add("alt", strconv.FormatFloat(p.Dir.Alt, 'f', -1, 64))
	}
	for _, s := range gwSubarrays {
		params.Add("subarrays", s)
	}
	log.AddJSON("API params", params)
	return Request{Params: params, Duration: m.Duration()}, nil
}

func (m *mwaGW) Submit(ctx context.Context, req Request, log *Log) error {
	return submitMWA(ctx, m.client, m.endpoint, req, log)
}
