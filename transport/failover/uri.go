// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package failover

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// URI is one broker endpoint candidate with its per-endpoint options.
type URI struct {
	Scheme  string
	Host    string
	Port    string
	Options map[string]string
}

// Address returns the dialable host:port.
func (u *URI) Address() string {
	return net.JoinHostPort(u.Host, u.Port)
}

// String renders the URI without its options.
func (u *URI) String() string {
	return fmt.Sprintf("%s://%s", u.Scheme, u.Address())
}

// Equal compares by scheme and address.
func (u *URI) Equal(o *URI) bool {
	return o != nil && u.Scheme == o.Scheme && u.Host == o.Host && u.Port == o.Port
}

// ParseURI parses a single endpoint URI such as
// "tcp://broker-1:61616?tcpNoDelay=false". Hostnames are normalised to
// their ASCII form.
func ParseURI(raw string) (*URI, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failover: bad uri %q: %w", raw, err)
	}
	if parsed.Scheme != "tcp" {
		return nil, fmt.Errorf("failover: unsupported scheme %q in %q", parsed.Scheme, raw)
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("failover: missing host in %q", raw)
	}
	if net.ParseIP(host) == nil {
		host, err = idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("failover: bad hostname in %q: %w", raw, err)
		}
	}
	port := parsed.Port()
	if port == "" {
		port = "61616"
	}
	opts := make(map[string]string)
	for k, vs := range parsed.Query() {
		if len(vs) > 0 {
			opts[k] = vs[0]
		}
	}
	return &URI{Scheme: parsed.Scheme, Host: host, Port: port, Options: opts}, nil
}

// ParseComposite parses the composite failover URI grammar:
//
//	failover:(tcp://h1:p1,tcp://h2:p2?opt=v,...)?failoverOpts
//	failover:tcp://h1:p1,tcp://h2:p2
//
// returning the endpoint list and the failover-level options.
func ParseComposite(raw string) ([]*URI, map[string]string, error) {
	rest := strings.TrimPrefix(raw, "failover:")
	if rest == raw {
		rest = strings.TrimPrefix(raw, "failover://")
		if rest == raw {
			return nil, nil, errors.New("failover: composite uri must start with failover:")
		}
	}

	opts := make(map[string]string)
	var inner string
	if strings.HasPrefix(rest, "(") {
		end := strings.LastIndexByte(rest, ')')
		if end < 0 {
			return nil, nil, fmt.Errorf("failover: unbalanced composite uri %q", raw)
		}
		inner = rest[1:end]
		tail := rest[end+1:]
		if strings.HasPrefix(tail, "?") {
			q, err := url.ParseQuery(tail[1:])
			if err != nil {
				return nil, nil, fmt.Errorf("failover: bad composite options in %q: %w", raw, err)
			}
			for k, vs := range q {
				if len(vs) > 0 {
					opts[k] = vs[0]
				}
			}
		}
	} else {
		inner = rest
	}

	var uris []*URI
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := ParseURI(part)
		if err != nil {
			return nil, nil, err
		}
		uris = append(uris, u)
	}
	if len(uris) == 0 {
		return nil, nil, errors.New("failover: composite uri names no endpoints")
	}
	return uris, opts, nil
}
