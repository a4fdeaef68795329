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

package icsrule

import (
	"fmt"
	"sync/atomic"

	"github.com/jasonish/icsdpi/log"
)

// ErrNoSuchRule is returned when a rule id is not in the current snapshot.
type ErrNoSuchRule uint32

func (e ErrNoSuchRule) Error() string {
	return fmt.Sprintf("no rule with rid %d", uint32(e))
}

// Store publishes rule snapshots. Readers take the current snapshot with
// Current and keep it for the duration of a match.
type Store struct {
	current atomic.Pointer[Rules]
}

func NewStore() *Store {
	store := &Store{}
	store.current.Store(newRules(nil))
	return store
}

// Init loads a rule file and publishes it. On failure the current snapshot
// stays in place.
func (s *Store) Init(path string) error {
	rules, err := Load(path)
	if err != nil {
		return err
	}
	s.Publish(rules)
	log.Info("Loaded %d ICS rules from %s", rules.Len(), path)
	return nil
}

func (s *Store) Current() *Rules {
	return s.current.Load()
}

func (s *Store) Publish(rules *Rules) {
	s.current.Store(rules)
}

// Delete publishes a snapshot without the rule.
func (s *Store) Delete(rid uint32) error {
	return s.update(rid, func(rules []*Rule, i int) []*Rule {
		return append(rules[:i], rules[i+1:]...)
	})
}

func (s *Store) Activate(rid uint32) error {
	return s.setActive(rid, true)
}

func (s *Store) Deactivate(rid uint32) error {
	return s.setActive(rid, false)
}

func (s *Store) setActive(rid uint32, active bool) error {
	return s.update(rid, func(rules []*Rule, i int) []*Rule {
		rule := rules[i].clone()
		rule.Active = active
		rules[i] = rule
		return rules
	})
}

// update applies fn to a copy of the current rules and publishes the
// result, retrying if another snapshot was published in between.
func (s *Store) update(rid uint32, fn func(rules []*Rule, i int) []*Rule) error {
	for {
		current := s.current.Load()
		rules := current.All()
		index := -1
		for i, rule := range rules {
			if rule.Rid == rid {
				index = i
				break
			}
		}
		if index < 0 {
			return ErrNoSuchRule(rid)
		}
		next := current.with(fn(rules, index))
		if s.current.CompareAndSwap(current, next) {
			return nil
		}
	}
}
