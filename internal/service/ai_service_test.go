package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	raw, ok := ExtractJSON(`{"a":1}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	// markdown围栏
	raw, ok = ExtractJSON("```json\n{\"a\":1}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	// 前后夹着解释文字
	raw, ok = ExtractJSON(`Here is the question: {"q":"text","n":2} hope it helps`)
	require.True(t, ok)
	assert.JSONEq(t, `{"q":"text","n":2}`, string(raw))

	// 嵌套对象和字符串里的花括号不能截断配平
	raw, ok = ExtractJSON(`{"outer":{"inner":"has } brace"},"x":1}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"outer":{"inner":"has } brace"},"x":1}`, string(raw))

	// 字符串里的转义引号
	raw, ok = ExtractJSON(`{"s":"say \"hi\" {now}"}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"s":"say \"hi\" {now}"}`, string(raw))

	_, ok = ExtractJSON("no json here")
	assert.False(t, ok)

	_, ok = ExtractJSON(`{"unterminated": `)
	assert.False(t, ok)

	_, ok = ExtractJSON(`{"bad" 1}`)
	assert.False(t, ok)
}
