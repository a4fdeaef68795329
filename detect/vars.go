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

package detect

import (
	"sort"
	"strings"

	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/pkg/errors"
)

const maxVarDepth = 8

// Vars holds the address and port groups rule headers refer to as $NAME.
// Names are case insensitive.
type Vars struct {
	addresses map[string]string
	ports     map[string]string
}

// NewVars checks that every group parses and that references between
// groups resolve.
func NewVars(addressGroups, portGroups map[string]string) (*Vars, error) {
	vars := &Vars{
		addresses: make(map[string]string, len(addressGroups)),
		ports:     make(map[string]string, len(portGroups)),
	}
	for name, value := range addressGroups {
		vars.addresses[strings.ToUpper(name)] = value
	}
	for name, value := range portGroups {
		vars.ports[strings.ToUpper(name)] = value
	}
	for _, name := range sortedKeys(vars.addresses) {
		if _, err := vars.address(name, 0); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(vars.ports) {
		if _, err := vars.port(name, 0); err != nil {
			return nil, err
		}
	}
	return vars, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (v *Vars) address(name string, depth int) (ruleparser.AddressList, error) {
	if depth > maxVarDepth {
		return ruleparser.AddressList{}, errors.Errorf("address group $%s nests too deeply", name)
	}
	value, ok := v.lookup(v.addresses, name)
	if !ok {
		return ruleparser.AddressList{}, errors.Errorf("undefined address group $%s", name)
	}
	list, err := ruleparser.ParseAddressList(value)
	if err != nil {
		return list, errors.Wrapf(err, "address group $%s", name)
	}
	return v.resolveAddresses(list, depth+1)
}

func (v *Vars) port(name string, depth int) (ruleparser.PortList, error) {
	if depth > maxVarDepth {
		return ruleparser.PortList{}, errors.Errorf("port group $%s nests too deeply", name)
	}
	value, ok := v.lookup(v.ports, name)
	if !ok {
		return ruleparser.PortList{}, errors.Errorf("undefined port group $%s", name)
	}
	list, err := ruleparser.ParsePortList(value)
	if err != nil {
		return list, errors.Wrapf(err, "port group $%s", name)
	}
	return v.resolvePorts(list, depth+1)
}

func (v *Vars) lookup(m map[string]string, name string) (string, bool) {
	if v == nil {
		return "", false
	}
	value, ok := m[strings.ToUpper(name)]
	return value, ok
}

// ResolveAddresses replaces the variables of a list with their groups. A
// negated group must not itself contain negations.
func (v *Vars) ResolveAddresses(list ruleparser.AddressList) (ruleparser.AddressList, error) {
	return v.resolveAddresses(list, 0)
}

func (v *Vars) resolveAddresses(list ruleparser.AddressList, depth int) (ruleparser.AddressList, error) {
	if len(list.Vars()) == 0 {
		return list, nil
	}
	var out ruleparser.AddressList
	acceptAny := false
	for _, a := range list.Accept {
		if a.Var == "" {
			out.Accept = append(out.Accept, a)
			continue
		}
		group, err := v.address(a.Var, depth)
		if err != nil {
			return out, err
		}
		if group.Accept == nil {
			acceptAny = true
		}
		out.Accept = append(out.Accept, group.Accept...)
		out.Except = append(out.Except, group.Except...)
	}
	for _, a := range list.Except {
		if a.Var == "" {
			out.Except = append(out.Except, a)
			continue
		}
		group, err := v.address(a.Var, depth)
		if err != nil {
			return out, err
		}
		if group.Accept == nil || len(group.Except) > 0 {
			return out, errors.Errorf("cannot negate address group $%s", a.Var)
		}
		out.Except = append(out.Except, group.Accept...)
	}
	if acceptAny {
		out.Accept = nil
	}
	return out, nil
}

// ResolvePorts replaces the variables of a port list with their groups.
func (v *Vars) ResolvePorts(list ruleparser.PortList) (ruleparser.PortList, error) {
	return v.resolvePorts(list, 0)
}

func (v *Vars) resolvePorts(list ruleparser.PortList, depth int) (ruleparser.PortList, error) {
	if len(list.Vars()) == 0 {
		return list, nil
	}
	var out ruleparser.PortList
	acceptAny := false
	for _, p := range list.Accept {
		if p.Var == "" {
			out.Accept = append(out.Accept, p)
			continue
		}
		group, err := v.port(p.Var, depth)
		if err != nil {
			return out, err
		}
		if group.Accept == nil {
			acceptAny = true
		}
		out.Accept = append(out.Accept, group.Accept...)
		out.Except = append(out.Except, group.Except...)
	}
	for _, p := range list.Except {
		if p.Var == "" {
			out.Except = append(out.Except, p)
			continue
		}
		group, err := v.port(p.Var, depth)
		if err != nil {
			return out, err
		}
		if group.Accept == nil || len(group.Except) > 0 {
			return out, errors.Errorf("cannot negate port group $%s", p.Var)
		}
		out.Except = append(out.Except, group.Accept...)
	}
	if acceptAny {
		out.Accept = nil
	}
	return out, nil
}
