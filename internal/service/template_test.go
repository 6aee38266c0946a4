package service

import "testing"

func TestRenderTemplate(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
		data map[string]string
		want string
	}{
		{
			"basic substitution",
			"{{child_name}} was checked in at {{time}}.",
			map[string]string{"child_name": "Mira", "time": "08:15"},
			"Mira was checked in at 08:15.",
		},
		{
			"unknown placeholder untouched",
			"Report for {{date}} by {{author}}",
			map[string]string{"date": "2026-05-01"},
			"Report for 2026-05-01 by {{author}}",
		},
		{
			"no placeholders",
			"plain text",
			map[string]string{"key": "value"},
			"plain text",
		},
		{
			"nil data",
			"{{child_name}} checked out",
			nil,
			"{{child_name}} checked out",
		},
		{
			"repeated placeholder",
			"{{n}} and {{n}}",
			map[string]string{"n": "x"},
			"x and x",
		},
		{
			"value containing braces is not re-expanded",
			"hello {{a}}",
			map[string]string{"a": "{{a}}x"},
			"hello {{a}}x",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := RenderTemplate(c.tpl, c.data); got != c.want {
				t.Errorf("RenderTemplate(%q) = %q, want %q", c.tpl, got, c.want)
			}
		})
	}
}
