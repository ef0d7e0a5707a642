package parser

import (
	"reflect"
	"testing"
)

func TestParseKV(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string]string
	}{
		{
			name: "plain pairs",
			body: "a=1 b=two",
			want: map[string]string{"a": "1", "b": "two"},
		},
		{
			name: "quoted value with spaces",
			body: `msg="hello world" x=1`,
			want: map[string]string{"msg": "hello world", "x": "1"},
		},
		{
			name: "escaped quotes",
			body: `msg="say \"hi\"" y=2`,
			want: map[string]string{"msg": `say "hi"`, "y": "2"},
		},
		{
			name: "empty value",
			body: "a= b=2",
			want: map[string]string{"a": "", "b": "2"},
		},
		{
			name: "repeated spaces",
			body: "  a=1    b=2  ",
			want: map[string]string{"a": "1", "b": "2"},
		},
		{
			name: "unterminated quote takes the rest",
			body: `a=1 m="abc def`,
			want: map[string]string{"a": "1", "m": "abc def"},
		},
		{
			name: "stops at token without equals",
			body: "a=1 garbage b=2",
			want: map[string]string{"a": "1"},
		},
		{
			name: "no pairs",
			body: "just some words",
			want: map[string]string{},
		},
		{
			name: "value containing equals",
			body: "url=http://x/?a=b c=d",
			want: map[string]string{"url": "http://x/?a=b", "c": "d"},
		},
		{
			name: "later duplicate wins",
			body: "a=1 a=2",
			want: map[string]string{"a": "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKV(tt.body)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseKV(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}
