package util

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	text := "The address of the scoll server. Multiple endpoints can be specified as a comma-separated list"
	wrapped := WrapString(text)
	for _, line := range strings.Split(wrapped, "\n") {
		if len(line) > Wrap {
			t.Errorf("line longer than %d characters: %q", Wrap, line)
		}
	}
	if got := strings.Join(strings.Fields(wrapped), " "); got != text {
		t.Errorf("wrapping changed the words: %q", got)
	}
	if WrapString("") != "" {
		t.Errorf("empty text should stay empty")
	}
}

func TestGetClientConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("endpoints", " http://a:8080, ,b:8081 ")
	viper.Set("timeout", 3)
	viper.Set("retries", 5)

	c := GetClientConfig()
	if len(c.Endpoints) != 2 || c.Endpoints[0] != "http://a:8080" || c.Endpoints[1] != "b:8081" {
		t.Errorf("unexpected endpoints: %v", c.Endpoints)
	}
	if c.TimeoutSecond != 3 || c.RetryCount != 5 {
		t.Errorf("unexpected timeout/retries: %d/%d", c.TimeoutSecond, c.RetryCount)
	}
}
