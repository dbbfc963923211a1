// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bootcfg

import (
	"fmt"
	"os"
	"strings"
)

// consume up to the separator or end of data, allowing for escaping using \.
func consume(t string, sep rune) (value, remaining string) {
	val := make([]rune, 0, len(t))
	escaped := false
	for i, r := range t {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		if !escaped && r == sep {
			return string(val), t[i:] // include sep
		}
		escaped = false
		val = append(val, r)
	}
	return string(val), ""
}

func parseField(t, field string, allowEmpty, expectMore bool) (value, remaining string, err error) {
	if len(t) > 0 && t[0] == '\'' {
		value, remaining = consume(t[1:], '\'')
		if len(remaining) == 0 {
			return "", "", fmt.Errorf("missing close quote (') for %v", field)
		}
		remaining = remaining[1:]
	} else if len(t) > 0 {
		value, remaining = consume(t, ',')
	}
	if !allowEmpty && len(value) == 0 {
		return "", "", fmt.Errorf("empty field for %v", field)
	}
	if expectMore {
		if len(remaining) == 0 {
			return "", "", fmt.Errorf("more fields expected after %v", field)
		}
		if remaining[0] == ',' {
			remaining = remaining[1:]
		}
		return value, remaining, nil
	}
	if len(remaining) > 0 {
		return "", "", fmt.Errorf("spurious text after %v", field)
	}
	return value, remaining, nil
}

// ParseTag parses a boot option tag of the form
//
//	<name>,<default-value>,<usage>
//
// <default-value> may be empty, but <name> and <usage> must be supplied.
// Any field may be quoted with ' if it needs to contain a comma, and a
// backslash escapes the next character.  Default values may refer to
// environment variables, as in $KSCHED_CPUS; $USERHOME is an alias for
// $HOME.
func ParseTag(t string) (name, value, usage string, err error) {
	if len(t) == 0 {
		return "", "", "", fmt.Errorf("empty or missing tag")
	}
	name, remaining, err := parseField(t, "<name>", false, true)
	if err != nil {
		return
	}
	value, remaining, err = parseField(remaining, "<default-value>", true, true)
	if err != nil {
		return
	}
	usage, _, err = parseField(remaining, "<usage>", false, false)
	return
}

// ExpandEnv is like os.ExpandEnv but treats $USERHOME as $HOME.
func ExpandEnv(e string) string {
	e = strings.ReplaceAll(e, "$USERHOME", "$HOME")
	return os.ExpandEnv(e)
}
