package zonecheck

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var ipv4Pattern = regexp.MustCompile(`[0-9]+\.[0-9]+\.[0-9]+\.[0-9]+`)

// Zone is a slaved zone and the masters it is transferred from.
type Zone struct {
	Name    string
	Masters []string
}

// ParseFiles reads zone stanzas from each BIND config file in order.
// A zone seen again in a later stanza keeps its first position but
// takes the later master list.
func ParseFiles(log logrus.FieldLogger, paths []string) ([]Zone, error) {
	p := newParser(log)

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening zone file %s: %w", path, err)
		}

		err = p.parse(path, f)
		f.Close()

		if err != nil {
			return nil, err
		}
	}

	return p.zones(), nil
}

// Parse reads zone stanzas from a single reader.
func Parse(log logrus.FieldLogger, name string, r io.Reader) ([]Zone, error) {
	p := newParser(log)

	if err := p.parse(name, r); err != nil {
		return nil, err
	}

	return p.zones(), nil
}

type parser struct {
	log     logrus.FieldLogger
	order   []string
	masters map[string][]string
	current string
}

func newParser(log logrus.FieldLogger) *parser {
	return &parser{
		log:     log.WithField("component", "zonecheck"),
		masters: make(map[string][]string, 16),
	}
}

func (p *parser) parse(name string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "#"):
			continue
		case strings.Contains(line, "zone"):
			zone, ok := quoted(line)
			if !ok {
				p.log.WithFields(logrus.Fields{
					"file": name,
					"line": lineNo,
				}).Warn("Zone line without a quoted name")

				continue
			}

			p.current = zone
		case strings.Contains(line, "masters"):
			if p.current == "" {
				p.log.WithFields(logrus.Fields{
					"file": name,
					"line": lineNo,
				}).Warn("Masters line outside a zone stanza")

				continue
			}

			if _, seen := p.masters[p.current]; !seen {
				p.order = append(p.order, p.current)
			}

			p.masters[p.current] = ipv4Pattern.FindAllString(line, -1)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading zone file %s: %w", name, err)
	}

	return nil
}

func (p *parser) zones() []Zone {
	zones := make([]Zone, 0, len(p.order))

	for _, name := range p.order {
		zones = append(zones, Zone{Name: name, Masters: p.masters[name]})
	}

	return zones
}

// quoted returns the first double-quoted string on the line.
func quoted(line string) (string, bool) {
	parts := strings.SplitN(line, `"`, 3)
	if len(parts) < 2 {
		return "", false
	}

	return parts[1], true
}
