package fcstat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/maruel/natural"
	"github.com/sirupsen/logrus"
)

// Statistics lists the counters read from each host's statistics
// directory, in report column order.
var Statistics = []string{
	"rx_frames",
	"tx_frames",
	"error_frames",
	"invalid_crc_count",
	"fcp_input_megabytes",
	"fcp_output_megabytes",
}

// Sample holds one reading of every statistic, indexed like Statistics.
type Sample [6]uint64

// DiscoverHosts lists the FC hosts under root in natural order
// (host1, host9, host10).
func DiscoverHosts(ctx context.Context, log logrus.FieldLogger, root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	hosts := make([]string, 0, len(entries))

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Class entries are symlinks into /sys/devices, so stat
		// through them.
		info, err := os.Stat(filepath.Join(root, entry.Name()))
		if err != nil || !info.IsDir() {
			continue
		}

		log.WithField("host", entry.Name()).Debug("Found FC host")

		hosts = append(hosts, entry.Name())
	}

	sort.Sort(natural.StringSlice(hosts))

	return hosts, nil
}

// VerifyHost fails when none of the statistics files exist for host.
func VerifyHost(root, host string) error {
	dir := statisticsDir(root, host)

	for _, stat := range Statistics {
		info, err := os.Stat(filepath.Join(dir, stat))
		if err == nil && info.Mode().IsRegular() {
			return nil
		}
	}

	return fmt.Errorf("the statistics directory doesn't exist for HBA %s", host)
}

// ReadCounter parses one statistics file. The kernel writes these as
// 0x-prefixed hex.
func ReadCounter(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")

	v, err := strconv.ParseUint(text, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	return v, nil
}

func statisticsDir(root, host string) string {
	return filepath.Join(root, host, "statistics")
}

// Delta returns cur minus prev per statistic. A counter that went
// backwards was reset or wrapped and reports 0.
func Delta(prev, cur Sample) Sample {
	var d Sample

	for i := range cur {
		if cur[i] >= prev[i] {
			d[i] = cur[i] - prev[i]
		}
	}

	return d
}
