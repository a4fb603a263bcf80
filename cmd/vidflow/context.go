package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"vidflow/internal/apiclient"
	"vidflow/internal/config"
)

type commandContext struct {
	configFlag *string
	addrFlag   *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, addrFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		addrFlag:   addrFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(flagValue(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	return flagValue(c.configFlag)
}

func (c *commandContext) client() (*apiclient.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	addr := flagValue(c.addrFlag)
	if addr == "" {
		addr = dialAddress(cfg.API.Bind)
	}
	token := flagValue(c.tokenFlag)
	if token == "" {
		token = cfg.API.Token
	}
	return apiclient.New(addr, token), nil
}

func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return wrapDialError(fn(client), client.BaseURL())
}

// dialAddress turns a listen address into one a client can connect to.
func dialAddress(bind string) string {
	bind = strings.TrimSpace(bind)
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return bind
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func wrapDialError(err error, addr string) error {
	if err == nil {
		return nil
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; start it with `vidflow daemon`", addr)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
