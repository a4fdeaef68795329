/* Copyright (c) 2017 Jason Ish
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions
 * are met:
 *
 * 1. Redistributions of source code must retain the above copyright
 *    notice, this list of conditions and the following disclaimer.
 * 2. Redistributions in binary form must reproduce the above copyright
 *    notice, this list of conditions and the following disclaimer in the
 *    documentation and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED ``AS IS'' AND ANY EXPRESS OR IMPLIED
 * WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
 * DISCLAIMED. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY DIRECT,
 * INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES
 * (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
 * SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
 * HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT,
 * STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING
 * IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jasonish/icsdpi/log"
	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/pkg/errors"
)

// Diagnostic is a rule parser diagnostic with the file it came from.
type Diagnostic struct {
	File string
	ruleparser.Diagnostic
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s: %v", d.File, d.Line, d.Severity, d.Err)
}

// RuleMap is the set of Suricata rules loaded from a list of files,
// directories and globs, keyed by signature id.
type RuleMap struct {
	rules       []*ruleparser.Surule
	bySid       map[uint64]*ruleparser.Surule
	files       []string
	diagnostics []Diagnostic
}

func (r *RuleMap) loadRulesFromFile(filename string, options ruleparser.ParseOptions) error {
	surules, err := ruleparser.ParseFile(filename, options)
	if surules != nil {
		for _, d := range surules.Diagnostics {
			diagnostic := Diagnostic{File: filename, Diagnostic: d}
			r.diagnostics = append(r.diagnostics, diagnostic)
			if d.Severity == ruleparser.SeverityError {
				log.Warning("Rule parse error: %s", diagnostic)
			} else {
				log.Debug("Rule parse warning: %s", diagnostic)
			}
		}
	}
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", filename)
	}

	count := 0
	for _, rule := range surules.Rules {
		if _, ok := r.bySid[rule.Sid]; ok {
			log.Warning("A rule with ID %d already exists.", rule.Sid)
			continue
		}
		count++
		r.bySid[rule.Sid] = rule
		r.rules = append(r.rules, rule)
	}
	r.files = append(r.files, filename)

	log.Debug("Loaded %d rules from %s", count, filename)

	return nil
}

// expandPath returns the rule files a path refers to: the file itself, the
// *.rules files of a directory or the matches of a glob.
func expandPath(path string) ([]string, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		// Load as glob.
		matches, gerr := filepath.Glob(path)
		if gerr != nil {
			return nil, errors.Wrapf(gerr, "bad pattern %s", path)
		}
		if len(matches) == 0 {
			return nil, errors.Wrapf(err, "no rule files for %s", path)
		}
		sort.Strings(matches)
		return matches, nil
	}
	if !fileInfo.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rules") {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	return files, nil
}

// NewRuleMap loads rules with the default parse options.
func NewRuleMap(paths []string) (*RuleMap, error) {
	return NewRuleMapWith(paths, ruleparser.ParseOptions{})
}

// NewRuleMapWith loads every rule file the paths refer to. Rules that fail
// to parse are skipped and reported as diagnostics. A path that cannot be
// read, or a file without a single valid rule, fails the whole load. The
// first rule seen for a sid wins.
func NewRuleMapWith(paths []string, options ruleparser.ParseOptions) (*RuleMap, error) {
	ruleMap := &RuleMap{
		bySid: make(map[uint64]*ruleparser.Surule),
	}

	for _, path := range paths {
		files, err := expandPath(path)
		if err != nil {
			return nil, err
		}
		for _, filename := range files {
			if err := ruleMap.loadRulesFromFile(filename, options); err != nil {
				return nil, err
			}
		}
	}

	log.Info("Loaded %d rules", len(ruleMap.rules))

	return ruleMap, nil
}

func (r *RuleMap) FindById(id uint64) *ruleparser.Surule {
	if r == nil || r.bySid == nil {
		return nil
	}
	return r.bySid[id]
}

// Rules returns the rules in load order.
func (r *RuleMap) Rules() []*ruleparser.Surule {
	if r == nil {
		return nil
	}
	return r.rules
}

func (r *RuleMap) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// Files returns the rule files that were loaded.
func (r *RuleMap) Files() []string {
	if r == nil {
		return nil
	}
	return r.files
}

func (r *RuleMap) Diagnostics() []Diagnostic {
	if r == nil {
		return nil
	}
	return r.diagnostics
}
