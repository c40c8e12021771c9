package bundler

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// Stats holds the problems reported in a bundler's JSON stats output
type Stats struct {
	Warnings []string
	Errors   []string
}

// ParseStats extracts warnings and errors from JSON stats. Leading non-JSON
// output is skipped. Entries may be plain strings or objects with a
// "message" field, and multi-config stats nest them under "children".
// The second return value is false when no stats object was found.
func ParseStats(data []byte) (Stats, bool) {
	start := bytes.IndexByte(data, '{')
	if start < 0 {
		return Stats{}, false
	}

	root := gjson.ParseBytes(data[start:])
	if !root.IsObject() {
		return Stats{}, false
	}

	var s Stats
	seen := make(map[string]bool)
	collect(root, &s, seen)
	return s, true
}

func collect(node gjson.Result, s *Stats, seen map[string]bool) {
	node.Get("warnings").ForEach(func(_, v gjson.Result) bool {
		if msg := message(v); !seen["w:"+msg] {
			seen["w:"+msg] = true
			s.Warnings = append(s.Warnings, msg)
		}
		return true
	})
	node.Get("errors").ForEach(func(_, v gjson.Result) bool {
		if msg := message(v); !seen["e:"+msg] {
			seen["e:"+msg] = true
			s.Errors = append(s.Errors, msg)
		}
		return true
	})
	node.Get("children").ForEach(func(_, child gjson.Result) bool {
		collect(child, s, seen)
		return true
	})
}

func message(v gjson.Result) string {
	if !v.IsObject() {
		return v.String()
	}
	if m := v.Get("message"); m.Exists() {
		msg := m.String()
		if loc := v.Get("moduleName"); loc.Exists() {
			msg = loc.String() + ": " + msg
		}
		return msg
	}
	return v.Raw
}
