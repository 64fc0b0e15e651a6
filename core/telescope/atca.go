package telescope

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/tracet/core/factory"
	"github.com/kilianp07/tracet/core/model"
)

// atcaBands maps receiver wavelengths in mm to their request keys.
var atcaBands = map[int]string{
	3:   "3mm",
	7:   "7mm",
	15:  "15mm",
	40:  "4cm",
	160: "16cm",
}

// ATCABand configures one receiver. Exposure is in minutes, frequencies in MHz.
type ATCABand struct {
	Band     int `json:"band"`
	Exposure int `json:"exposure"`
	Freq1    int `json:"freq1"`
	Freq2    int `json:"freq2"`
}

// atca requests rapid response time from the Australia Telescope Compact
// Array.
type atca struct {
	ProjectID           string     `json:"project_id"`
	HTTPUsername        string     `json:"http_username"`
	HTTPPassword        string     `json:"http_password"`
	Email               string     `json:"email"`
	AuthenticationToken string     `json:"authentication_token"`
	RAPath              string     `json:"ra_path"`
	DecPath             string     `json:"dec_path"`
	MaximumLag          float64    `json:"maximum_lag"`
	MinimumExposure     int        `json:"minimum_exposure"`
	MaximumExposure     int        `json:"maximum_exposure"`
	Bands               []ATCABand `json:"bands"`

	client   *http.Client
	endpoint string
}

func newATCA(env Env, conf map[string]any) (Telescope, error) {
	a := &atca{client: env.Client, endpoint: env.ATCAURL}
	if err := factory.Decode(conf, a); err != nil {
		return nil, fmt.Errorf("atca: decode config: %w", err)
	}
	if a.ProjectID == "" || a.Email == "" || a.AuthenticationToken == "" {
		return nil, fmt.Errorf("atca: project_id, email and authentication_token are required")
	}
	if a.RAPath == "" || a.DecPath == "" {
		return nil, fmt.Errorf("atca: ra_path and dec_path are required")
	}
	if a.MinimumExposure > a.MaximumExposure {
		return nil, fmt.Errorf("atca: minimum_exposure exceeds maximum_exposure")
	}
	seen := make(map[int]bool, len(a.Bands))
	for _, b := range a.Bands {
		if _, ok := atcaBands[b.Band]; !ok {
			return nil, fmt.Errorf("atca: unknown band %d", b.Band)
		}
		if seen[b.Band] {
			return nil, fmt.Errorf("atca: band %d configured twice", b.Band)
		}
		seen[b.Band] = true
	}
	sort.Slice(a.Bands, func(i, j int) bool { return a.Bands[i].Band < a.Bands[j].Band })
	return a, nil
}

func (a *atca) Observatory() model.Observatory { return model.ATCA }

func (a *atca) Prepare(in Input, log *Log) (Request, error) {
	ra, err := in.Float(a.RAPath)
	if err != nil {
		log.Add("An error occurred attempting to parse RA,Dec values", err)
		return Request{}, err
	}
	dec, err := in.Float(a.DecPath)
	if err != nil {
		log.Add("An error occurred attempting to parse RA,Dec values", err)
		return Request{}, err
	}
	return a.request(in.Trigger.Active, ra, dec, log)
}

func (a *atca) request(active bool, ra, dec float64, log *Log) (Request, error) {
	if dec < -90 || dec > 90 {
		err := fmt.Errorf("declination %v out of range", dec)
		log.Add("An error occurred attempting to parse RA,Dec values", err)
		return Request{}, err
	}
	params := url.Values{}
	params.Set("email", a.Email)
	params.Set("authenticationToken", a.AuthenticationToken)
	params.Set("maximumLag", strconv.FormatFloat(a.MaximumLag/60, 'f', -1, 64))
	if !active {
		params.Set("test", pyBool(true))
		params.Set("emailOnly", a.Email)
		params.Set("noTimeLimit", pyBool(true))
		params.Set("noScoreLimit", pyBool(true))
	}

	body := map[string]any{
		"source":            "gamma ray burst",
		"project":           a.ProjectID,
		"minExposureLength": minutesToHMS(float64(a.MinimumExposure)),
		"maxExposureLength": minutesToHMS(float64(a.MaximumExposure)),
		"rightAscension":    sexagesimal(normalizeRA(ra)/15, 2),
		"declination":       sexagesimal(dec, 1),
		"scanType":          "Dwell",
	}
	for _, b := range a.Bands {
		body[atcaBands[b.Band]] = map[string]any{
			"use":            true,
			"exposureLength": b.Exposure,
			"freq1":          b.Freq1,
			"freq2":          b.Freq2,
		}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return Request{}, err
	}
	params.Set("request", string(encoded))
	log.AddJSON("API params", params)
	return Request{Params: params, Duration: time.Duration(a.MaximumExposure) * time.Minute}, nil
}

type atcaResponse struct {
	AuthenticationToken struct {
		Verified bool `json:"verified"`
	} `json:"authenticationToken"`
	Schedule struct {
		Valid bool `json:"valid"`
	} `json:"schedule"`
}

func (a *atca) Submit(ctx context.Context, req Request, log *Log) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(req.Params.Encode()))
	if err != nil {
		return &DispatchError{Kind: KindRequest, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if a.HTTPUsername != "" {
		httpReq.SetBasicAuth(a.HTTPUsername, a.HTTPPassword)
	}
	body, err := do(a.client, httpReq)
	if err != nil {
		log.Add("An error occurred making the HTTP request to the ATCA API", err)
		return &DispatchError{Kind: KindRequest, Err: err}
	}
	log.Add("Raw API response", body)

	var resp atcaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Add("The ATCA API returned invalid JSON", err)
		return fmt.Errorf("atca: invalid response: %w", err)
	}
	if !resp.AuthenticationToken.Verified {
		return fail(KindRejection, "atca: authentication token was not verified")
	}
	if !resp.Schedule.Valid {
		return fail(KindRejection, "atca: schedule is not valid")
	}
	return nil
}

func minutesToHMS(minutes float64) string {
	h := int(minutes / 60)
	minutes -= float64(h * 60)
	m := int(minutes)
	minutes -= float64(m)
	s := int(minutes * 60)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func normalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra
}

// sexagesimal formats v as [-]dd:mm:ss.s with the given decimals on seconds.
func sexagesimal(v float64, decimals int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	scale := math.Pow(10, float64(decimals))
	total := math.Round(v*3600*scale) / scale
	d := math.Floor(total / 3600)
	total -= d * 3600
	m := math.Floor(total / 60)
	s := total - m*60
	width := 2
	if decimals > 0 {
		width = 3 + decimals
	}
	return fmt.Sprintf("%s%02d:%02d:%0*.*f", sign, int(d), int(m), width, decimals, s)
}
