package cmd

import (
	"github.com/Iron-Ham/convoy/internal/host"
)

// targets merges -H hosts (with optional user and port) and host file
// addresses, then drops the excluded patterns. Order is kept and
// duplicate addresses are dropped.
func targets(specs []string, hostFile string, exclude []string) ([]host.Host, error) {
	var hosts []host.Host
	for _, s := range specs {
		h, err := host.Parse(s)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	if hostFile != "" {
		set, err := host.ReadFile(hostFile)
		if err != nil {
			return nil, err
		}
		for _, a := range set.Slice() {
			hosts = append(hosts, host.New(a))
		}
	}

	addresses := make([]string, 0, len(hosts))
	for _, h := range hosts {
		addresses = append(addresses, h.Address)
	}
	kept, err := host.NewSet(addresses...).Exclude(exclude...)
	if err != nil {
		return nil, err
	}

	var out []host.Host
	seen := make(map[string]bool)
	for _, h := range hosts {
		if kept.Contains(h.Address) && !seen[h.Address] {
			seen[h.Address] = true
			out = append(out, h)
		}
	}
	return out, nil
}

func addressSet(hosts []host.Host) host.Set {
	addresses := make([]string, 0, len(hosts))
	for _, h := range hosts {
		addresses = append(addresses, h.Address)
	}
	return host.NewSet(addresses...)
}
