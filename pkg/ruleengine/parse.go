// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package ruleengine

import (
	"bufio"
	"os"
	"strings"

	"github.com/stratastor/udevd/pkg/errors"
)

// parseRuleFile reads one rule per non-blank, non-comment line:
//
//	SUBSYSTEM=block,DEVTYPE=disk,ACTION=add KEY=VALUE,KEY2=VALUE2
//
// The matcher clause and the properties clause are separated by
// whitespace; either may be empty.
func parseRuleFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.EngineRuleEngineInitFailed).WithMetadata("path", path)
	}
	defer f.Close()

	var rules []Rule
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var r Rule
		r.Properties = make(map[string]string)

		for _, pair := range strings.Split(fields[0], ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			switch k {
			case "SUBSYSTEM":
				r.MatchSubsystem = v
			case "DEVTYPE":
				r.MatchDevType = v
			case "ACTION":
				r.MatchAction = v
			}
		}

		if len(fields) > 1 {
			for _, pair := range strings.Split(fields[1], ",") {
				k, v, ok := strings.Cut(pair, "=")
				if ok {
					r.Properties[k] = v
				}
			}
		}

		rules = append(rules, r)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.EngineRuleEngineInitFailed).WithMetadata("path", path)
	}
	return rules, nil
}
