// Copyright 2026 The Debforge Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import "strings"

// argsBuilder accumulates a bootstrap tool's argument list. Backends
// differ in whether a flag takes its value as "--flag=value" or as a
// separate argument, so both forms are provided.
type argsBuilder struct {
	args []string
}

func (b *argsBuilder) positional(value string) {
	b.args = append(b.args, value)
}

// flagEq appends --flag=value, skipping empty values.
func (b *argsBuilder) flagEq(flag, value string) {
	if value == "" {
		return
	}
	b.args = append(b.args, flag+"="+value)
}

// flagEqEach appends one --flag=value per value.
func (b *argsBuilder) flagEqEach(flag string, values []string) {
	for _, v := range values {
		b.flagEq(flag, v)
	}
}

// flagEqJoined appends --flag=a,b,c, skipping empty lists.
func (b *argsBuilder) flagEqJoined(flag string, values []string) {
	if len(values) == 0 {
		return
	}
	b.flagEq(flag, strings.Join(values, ","))
}
