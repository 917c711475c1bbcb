package adminapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ppmgo/ppm/internal/model"
)

// parseEndpoints splits the admin surface's comma-separated "host:port,
// host:port" upstream representation into a []model.Endpoint. The core data
// model always holds a list; this adapter layer owns the CSV split so
// internal/store and internal/snapshot never see raw strings.
func parseEndpoints(csv string) ([]model.Endpoint, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]model.Endpoint, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		host, portStr, err := splitHostPort(p)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream %q: %w", p, err)
		}
		out = append(out, model.Endpoint{Address: host, Port: portStr})
	}
	return out, nil
}

func splitHostPort(addr string) (string, int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("missing port")
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port: %w", err)
	}
	return addr[:idx], port, nil
}

func formatEndpoints(endpoints []model.Endpoint) string {
	parts := make([]string, len(endpoints))
	for i, e := range endpoints {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}
