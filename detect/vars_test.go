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
	"net"
	"testing"

	"github.com/jasonish/icsdpi/ruleparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVarsErrors(t *testing.T) {
	_, err := NewVars(map[string]string{"HOME_NET": "[10.0.0.0/8"}, nil)
	assert.Error(t, err)

	_, err = NewVars(map[string]string{"HOME_NET": "$OTHER"}, nil)
	assert.EqualError(t, err, "undefined address group $OTHER")

	_, err = NewVars(map[string]string{"A": "$B", "B": "$A"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nests too deeply")

	_, err = NewVars(nil, map[string]string{"HTTP_PORTS": "80:70"})
	assert.Error(t, err)

	vars, err := NewVars(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, vars)
}

func TestResolveAddresses(t *testing.T) {
	vars, err := NewVars(map[string]string{
		"home_net":     "[192.168.0.0/16,!192.168.9.0/24]",
		"dns_servers":  "[10.0.0.53,10.0.1.53]",
		"any_net":      "any",
		"external_net": "!$DNS_SERVERS",
	}, nil)
	require.NoError(t, err)

	resolve := func(text string) ruleparser.AddressList {
		list, err := ruleparser.ParseAddressList(text)
		require.NoError(t, err)
		resolved, err := vars.ResolveAddresses(list)
		require.NoError(t, err, text)
		assert.Empty(t, resolved.Vars(), text)
		return resolved
	}

	home := resolve("$HOME_NET")
	assert.True(t, home.Contains(net.ParseIP("192.168.1.1")))
	assert.False(t, home.Contains(net.ParseIP("192.168.9.1")))
	assert.False(t, home.Contains(net.ParseIP("10.0.0.1")))

	// Lookups ignore case.
	assert.Equal(t, home, resolve("$home_net"))

	dns := resolve("!$DNS_SERVERS")
	assert.False(t, dns.Contains(net.ParseIP("10.0.0.53")))
	assert.True(t, dns.Contains(net.ParseIP("10.0.0.54")))

	external := resolve("$EXTERNAL_NET")
	assert.Equal(t, dns, external)

	anyNet := resolve("[$ANY_NET,10.0.0.0/8]")
	assert.True(t, anyNet.IsAny())
	assert.True(t, anyNet.Contains(net.ParseIP("172.16.0.1")))

	mixed := resolve("[$DNS_SERVERS,172.16.0.0/12]")
	assert.True(t, mixed.Contains(net.ParseIP("10.0.1.53")))
	assert.True(t, mixed.Contains(net.ParseIP("172.16.0.1")))
	assert.False(t, mixed.Contains(net.ParseIP("10.0.0.1")))

	// Negating a group that has its own exceptions is ambiguous.
	list, err := ruleparser.ParseAddressList("!$HOME_NET")
	require.NoError(t, err)
	_, err = vars.ResolveAddresses(list)
	assert.EqualError(t, err, "cannot negate address group $HOME_NET")

	list, err = ruleparser.ParseAddressList("!$ANY_NET")
	require.NoError(t, err)
	_, err = vars.ResolveAddresses(list)
	assert.Error(t, err)

	list, err = ruleparser.ParseAddressList("$UNKNOWN")
	require.NoError(t, err)
	_, err = vars.ResolveAddresses(list)
	assert.EqualError(t, err, "undefined address group $UNKNOWN")

	// Lists without variables come back unchanged, even without vars.
	var none *Vars
	list, err = ruleparser.ParseAddressList("10.0.0.0/8")
	require.NoError(t, err)
	resolved, err := none.ResolveAddresses(list)
	require.NoError(t, err)
	assert.Equal(t, list, resolved)
}

func TestResolvePorts(t *testing.T) {
	vars, err := NewVars(nil, map[string]string{
		"HTTP_PORTS":   "[80,8080:8090]",
		"MODBUS_PORTS": "502",
		"OTHER_PORTS":  "[!$HTTP_PORTS]",
		"ANY_PORT":     "any",
	})
	require.NoError(t, err)

	resolve := func(text string) ruleparser.PortList {
		list, err := ruleparser.ParsePortList(text)
		require.NoError(t, err)
		resolved, err := vars.ResolvePorts(list)
		require.NoError(t, err, text)
		return resolved
	}

	http := resolve("$HTTP_PORTS")
	assert.True(t, http.Contains(80))
	assert.True(t, http.Contains(8085))
	assert.False(t, http.Contains(443))

	both := resolve("[$HTTP_PORTS,$MODBUS_PORTS]")
	assert.True(t, both.Contains(502))
	assert.True(t, both.Contains(80))

	other := resolve("$OTHER_PORTS")
	assert.False(t, other.Contains(80))
	assert.True(t, other.Contains(443))

	assert.True(t, resolve("$ANY_PORT").IsAny())
	assert.False(t, resolve("!$MODBUS_PORTS").Contains(502))

	list, err := ruleparser.ParsePortList("!$OTHER_PORTS")
	require.NoError(t, err)
	_, err = vars.ResolvePorts(list)
	assert.EqualError(t, err, "cannot negate port group $OTHER_PORTS")

	list, err = ruleparser.ParsePortList("$NOPE")
	require.NoError(t, err)
	_, err = vars.ResolvePorts(list)
	assert.EqualError(t, err, "undefined port group $NOPE")
}
