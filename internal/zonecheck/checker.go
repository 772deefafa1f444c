package zonecheck

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	transferFailedMarker = "Transfer failed"
	unreachableMarker    = "no servers could be reached"
)

// Status is the outcome of one zone transfer attempt.
type Status uint8

const (
	// StatusOK means dig reported neither failure marker.
	StatusOK Status = iota
	// StatusTransferFailed means the master refused the AXFR.
	StatusTransferFailed
	// StatusUnreachable means the master could not be contacted.
	StatusUnreachable
)

// String returns the metric label for the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTransferFailed:
		return "transfer_failed"
	case StatusUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Result is the outcome of checking one (zone, master) pair.
type Result struct {
	Zone     string
	Master   string
	Status   Status
	Attempts int
}

// Failed reports whether the check did not succeed.
func (r Result) Failed() bool {
	return r.Status != StatusOK
}

// Message returns the operator-facing report line for a failure, or
// an empty string when the check passed.
func (r Result) Message() string {
	switch r.Status {
	case StatusTransferFailed:
		return fmt.Sprintf("Unable to AXFR zone %s from IP %s", r.Zone, r.Master)
	case StatusUnreachable:
		return fmt.Sprintf("Unable to connect to IP %s to retrieve zone %s", r.Master, r.Zone)
	default:
		return ""
	}
}

// Runner executes a zone transfer and returns dig's output.
type Runner interface {
	AXFR(ctx context.Context, master, zone string) ([]byte, error)
}

// DigRunner runs dig as a subprocess.
type DigRunner struct {
	Path    string
	Timeout int
}

// NewDigRunner creates a Runner from the config.
func NewDigRunner(cfg Config) *DigRunner {
	cfg.ApplyDefaults()

	return &DigRunner{
		Path:    cfg.DigPath,
		Timeout: cfg.timeoutSeconds(),
	}
}

// Args returns the dig arguments for an AXFR of zone from master.
func (d *DigRunner) Args(master, zone string) []string {
	return []string{
		"+time=" + strconv.Itoa(d.Timeout),
		"+noall",
		"@" + master,
		zone,
		"AXFR",
	}
}

// AXFR runs dig. A non-zero exit is not an error: dig's output is
// what gets classified.
func (d *DigRunner) AXFR(ctx context.Context, master, zone string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.Path, d.Args(master, zone)...)

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, nil
		}

		return nil, fmt.Errorf("running %s: %w", d.Path, err)
	}

	return out, nil
}

// HealthRecorder counts check results.
type HealthRecorder interface {
	RecordZoneCheck(result string)
}

// Checker verifies that every configured master serves its zones.
type Checker struct {
	log     logrus.FieldLogger
	cfg     Config
	runner  Runner
	metrics HealthRecorder
}

// NewChecker creates a Checker. metrics may be nil.
func NewChecker(
	log logrus.FieldLogger,
	cfg Config,
	runner Runner,
	metrics HealthRecorder,
) *Checker {
	cfg.ApplyDefaults()

	return &Checker{
		log:     log.WithField("component", "zonecheck"),
		cfg:     cfg,
		runner:  runner,
		metrics: metrics,
	}
}

// Check tries every (zone, master) pair in order, writing one line to
// w per failure. It returns all results; failed checks are not errors.
func (c *Checker) Check(ctx context.Context, zones []Zone, w io.Writer) ([]Result, error) {
	results := make([]Result, 0, len(zones))

	for _, zone := range zones {
		c.log.WithFields(logrus.Fields{
			"zone":    zone.Name,
			"masters": zone.Masters,
		}).Debug("Checking zone")

		for _, master := range zone.Masters {
			res, err := c.checkOne(ctx, zone.Name, master)
			if err != nil {
				return results, err
			}

			results = append(results, res)

			if c.metrics != nil {
				c.metrics.RecordZoneCheck(res.Status.String())
			}

			if !res.Failed() {
				continue
			}

			if _, err := fmt.Fprintln(w, res.Message()); err != nil {
				return results, fmt.Errorf("writing report: %w", err)
			}
		}
	}

	return results, nil
}

func (c *Checker) checkOne(ctx context.Context, zone, master string) (Result, error) {
	res := Result{Zone: zone, Master: master}

	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		out, err := c.runner.AXFR(ctx, master, zone)
		if err != nil {
			return res, fmt.Errorf("checking zone %s from %s: %w", zone, master, err)
		}

		res.Attempts++
		res.Status = Classify(out)

		if res.Status != StatusUnreachable {
			break
		}
	}

	return res, nil
}

// Classify maps dig output to a Status. An AXFR failure anywhere in
// the output takes precedence over an unreachable master.
func Classify(out []byte) Status {
	status := StatusOK

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, transferFailedMarker):
			return StatusTransferFailed
		case strings.Contains(line, unreachableMarker):
			status = StatusUnreachable
		}
	}

	return status
}

// AnyFailed reports whether any result failed.
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if r.Failed() {
			return true
		}
	}

	return false
}
