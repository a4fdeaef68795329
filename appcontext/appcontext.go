/* Copyright (c) 2016 Jason Ish
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

// Package appcontext holds the state shared by the icsdpi commands.
package appcontext

import (
	"sync/atomic"

	"github.com/jasonish/icsdpi/config"
	"github.com/jasonish/icsdpi/decoder"
	"github.com/jasonish/icsdpi/detect"
	"github.com/jasonish/icsdpi/log"
	"github.com/jasonish/icsdpi/metrics"
	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/jasonish/icsdpi/rules"
	"github.com/pkg/errors"
)

type AppContext struct {
	Config  *config.Config
	Engine  *detect.Engine
	Metrics *metrics.Collector

	// The Suricata rules currently loaded, for rule lookups by sid.
	ruleMap atomic.Pointer[rules.RuleMap]
}

// New creates the engine described by the config. No rules are loaded.
func New(cfg *config.Config) (*AppContext, error) {
	policy, err := detect.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	vars, err := detect.NewVars(cfg.Vars.AddressGroups, cfg.Vars.PortGroups)
	if err != nil {
		return nil, errors.Wrap(err, "invalid vars")
	}

	collector := metrics.NewCollector()
	engine := detect.NewEngine(detect.Options{
		Decoder: decoder.Options{
			ModbusPort: uint16(cfg.ModbusPort),
			Strict:     cfg.Strict,
			MaxLayers:  cfg.MaxLayers,
		},
		Policy: policy,
		Vars:   vars,
		ParseOptions: ruleparser.ParseOptions{
			Strict: cfg.Strict,
		},
		Metrics: collector,
	})

	return &AppContext{
		Config:  cfg,
		Engine:  engine,
		Metrics: collector,
	}, nil
}

// LoadRules loads the configured ICS and Suricata rules. A set that fails
// to load leaves the previously loaded set of that kind in use; the first
// error is returned.
func (c *AppContext) LoadRules() error {
	var firstErr error

	if c.Config.IcsRules != "" {
		if err := c.Engine.LoadIcsRules(c.Config.IcsRules); err != nil {
			log.WithError(err).Error("Failed to load ICS rules from %s", c.Config.IcsRules)
			firstErr = errors.Wrap(err, "ics rules")
		}
	}

	if len(c.Config.SuricataRules) > 0 {
		ruleMap, err := c.Engine.LoadSurules(c.Config.SuricataRules...)
		if err != nil {
			log.WithError(err).Error("Failed to load Suricata rules")
			if firstErr == nil {
				firstErr = errors.Wrap(err, "suricata rules")
			}
		} else {
			for _, diagnostic := range ruleMap.Diagnostics() {
				log.Warning("%s", diagnostic)
			}
			c.ruleMap.Store(ruleMap)
		}
	}

	return firstErr
}

// RulePaths returns every configured rule path, for watching.
func (c *AppContext) RulePaths() []string {
	var paths []string
	if c.Config.IcsRules != "" {
		paths = append(paths, c.Config.IcsRules)
	}
	return append(paths, c.Config.SuricataRules...)
}

// RuleMap returns the Suricata rules last loaded, or nil.
func (c *AppContext) RuleMap() *rules.RuleMap {
	return c.ruleMap.Load()
}

// FindById looks up a loaded Suricata rule by sid.
func (c *AppContext) FindById(id uint64) *ruleparser.Surule {
	return c.ruleMap.Load().FindById(id)
}
