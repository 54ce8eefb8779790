// Package synth generates synthetic Terraform JSON logs for load tests and
// benchmarks.
package synth

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"
)

// Config shapes the generated runs
type Config struct {
	Requests      int      // provider requests per phase
	ResourceTypes []string // picked round-robin
	ErrorRate     float64  // share of requests followed by an error line
	BodyBytes     int      // approximate size of each request and response body
	Seed          int64
	Start         time.Time
}

// DefaultResourceTypes are used when Config.ResourceTypes is empty
var DefaultResourceTypes = []string{"aws_instance", "aws_s3_bucket", "aws_iam_role", "google_compute_instance"}

func (c *Config) applyDefaults() {
	if c.Requests <= 0 {
		c.Requests = 50
	}
	if len(c.ResourceTypes) == 0 {
		c.ResourceTypes = DefaultResourceTypes
	}
	if c.BodyBytes <= 0 {
		c.BodyBytes = 256
	}
	if c.Start.IsZero() {
		c.Start = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	}
}

// Generator produces runs with a plan phase followed by an apply phase.
// It is not safe for concurrent use.
type Generator struct {
	cfg  Config
	rng  *rand.Rand
	now  time.Time
	seq  int
	body string
}

// New creates a generator. The same config yields the same output.
func New(cfg Config) *Generator {
	cfg.applyDefaults()
	return &Generator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		now:  cfg.Start,
		body: strings.Repeat("x", cfg.BodyBytes),
	}
}

// LinesPerRun is the minimum number of lines one run produces
func (g *Generator) LinesPerRun() int {
	return 2 + 2*(2+2*g.cfg.Requests)
}

// Run returns the lines of one run
func (g *Generator) Run() []string {
	lines := make([]string, 0, g.LinesPerRun())
	emit := func(fields map[string]any) {
		g.now = g.now.Add(time.Duration(1+g.rng.Intn(20)) * time.Millisecond)
		fields["@timestamp"] = g.now.Format(time.RFC3339Nano)
		b, _ := json.Marshal(fields)
		lines = append(lines, string(b))
	}

	for _, phase := range []string{"plan", "apply"} {
		emit(map[string]any{"@level": "info", "@message": fmt.Sprintf("CLI args: []string{\"terraform\", %q}", phase)})
		emit(map[string]any{"@level": "info", "@message": phase + " is starting"})
		for i := 0; i < g.cfg.Requests; i++ {
			g.seq++
			id := fmt.Sprintf("req-%06d", g.seq)
			rt := g.cfg.ResourceTypes[g.seq%len(g.cfg.ResourceTypes)]
			emit(map[string]any{
				"@level":           "debug",
				"@message":         "Sending HTTP Request",
				"tf_req_id":        id,
				"tf_resource_type": rt,
				"tf_http_req_body": fmt.Sprintf(`{"name":%q,"payload":%q}`, id, g.body),
			})
			emit(map[string]any{
				"@level":           "debug",
				"@message":         "Received HTTP Response",
				"tf_req_id":        id,
				"tf_resource_type": rt,
				"tf_http_res_body": fmt.Sprintf(`{"id":%q,"payload":%q}`, id, g.body),
			})
			if g.rng.Float64() < g.cfg.ErrorRate {
				emit(map[string]any{"@level": "error", "@message": "error creating " + rt, "tf_req_id": id})
			}
		}
		end := "plan is complete"
		if phase == "apply" {
			end = "apply complete! resources: 1 added"
		}
		emit(map[string]any{"@level": "info", "@message": end})
	}
	return lines
}

// WriteRun writes one run to w and returns the number of lines written
func (g *Generator) WriteRun(w io.Writer) (int, error) {
	lines := g.Run()
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return 0, err
		}
	}
	return len(lines), nil
}
