package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/orchestral"
	"github.com/loykin/orchestral/pkg/client"
)

type command struct {
	global *GlobalFlags
}

func (c *command) loadConfig() (*orchestral.Config, error) {
	cfg, err := orchestral.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if c.global.Environment != "" {
		cfg.Environment = c.global.Environment
	}
	return cfg, nil
}

func (c *command) open(ctx context.Context, cfg *orchestral.Config, log *slog.Logger) (*orchestral.Orchestra, error) {
	return orchestral.Open(ctx, cfg, orchestral.Options{Logger: log})
}

func (c *command) withOrchestra(ctx context.Context, fn func(*orchestral.Orchestra) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	o, err := c.open(ctx, cfg, cfg.Log.NewSlogger())
	if err != nil {
		return err
	}
	defer func() { _ = o.Close() }()
	return fn(o)
}

func remoteClient(f RemoteFlags) (*client.Client, error) {
	cc := client.DefaultConfig()
	cc.BaseURL = f.APIUrl
	if f.APITimeout > 0 {
		cc.Timeout = f.APITimeout
	}
	if f.CACert != "" {
		cc.TLS = &client.TLSClientConfig{CACert: f.CACert}
	}
	cc.Insecure = f.Insecure
	return client.New(cc)
}

func target(name string) string {
	if name == "" {
		return "all performances"
	}
	return name
}

func (c *command) Conduct(ctx context.Context, w io.Writer, name string, f ConductFlags) error {
	if f.APIUrl != "" {
		if f.Daemon {
			return fmt.Errorf("--daemon cannot be combined with --api-url")
		}
		cl, err := remoteClient(f.RemoteFlags)
		if err != nil {
			return err
		}
		if err := cl.Conduct(ctx, name); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "Conducting %s\n", target(name))
		return nil
	}
	if f.Detach {
		if !f.Daemon {
			return fmt.Errorf("--detach requires --daemon")
		}
		pid, err := daemonize(daemonArgs(), f.LogFile)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "Daemon started with PID %d\n", pid)
		return nil
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.LogFile != "" {
		cfg.Log.File.Path = f.LogFile
	}
	o, err := c.open(ctx, cfg, cfg.Log.NewSlogger())
	if err != nil {
		return err
	}
	defer func() { _ = o.Close() }()

	if err := o.Conduct(ctx, name); err != nil {
		return err
	}
	if !f.Daemon {
		_, _ = fmt.Fprintf(w, "Conducting %s\n", target(name))
		printStatusTable(w, toClientStatus(o.Status(ctx), nil))
		return nil
	}
	return runDaemon(ctx, w, o, f)
}

func (c *command) Pause(ctx context.Context, w io.Writer, name string, f PauseFlags) error {
	if f.APIUrl != "" {
		cl, err := remoteClient(f.RemoteFlags)
		if err != nil {
			return err
		}
		if err := cl.Pause(ctx, name, f.Wait); err != nil {
			return err
		}
	} else {
		err := c.withOrchestra(ctx, func(o *orchestral.Orchestra) error {
			if f.Wait {
				o.PauseWait(ctx, name)
			} else {
				o.Pause(ctx, name)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(w, "Paused %s\n", target(name))
	return nil
}

func (c *command) Encore(ctx context.Context, w io.Writer, name string, f RemoteFlags) error {
	if f.APIUrl != "" {
		cl, err := remoteClient(f)
		if err != nil {
			return err
		}
		if err := cl.Encore(ctx, name); err != nil {
			return err
		}
	} else {
		err := c.withOrchestra(ctx, func(o *orchestral.Orchestra) error {
			return o.Encore(ctx, name)
		})
		if err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(w, "Encore %s\n", target(name))
	return nil
}

func (c *command) Status(ctx context.Context, w io.Writer, f StatusFlags) error {
	var st client.Status
	if f.APIUrl != "" {
		cl, err := remoteClient(f.RemoteFlags)
		if err != nil {
			return err
		}
		got, err := cl.Status(ctx, f.Health)
		if err != nil {
			return err
		}
		st = *got
	} else {
		err := c.withOrchestra(ctx, func(o *orchestral.Orchestra) error {
			var health map[string]orchestral.Health
			if f.Health {
				health = o.HealthCheck()
			}
			st = toClientStatus(o.Status(ctx), health)
			return nil
		})
		if err != nil {
			return err
		}
	}
	if f.JSON {
		printJSON(w, st)
		return nil
	}
	printStatusTable(w, st)
	if f.Health {
		printHealthTable(w, st.Health)
	}
	return nil
}

func (c *command) Instruments(ctx context.Context, w io.Writer, f OutputFlags) error {
	var ins map[string]client.Instrument
	if f.APIUrl != "" {
		cl, err := remoteClient(f.RemoteFlags)
		if err != nil {
			return err
		}
		if ins, err = cl.Instruments(ctx); err != nil {
			return err
		}
	} else {
		err := c.withOrchestra(ctx, func(o *orchestral.Orchestra) error {
			ins = toClientInstruments(o.Instruments())
			return nil
		})
		if err != nil {
			return err
		}
	}
	if f.JSON {
		printJSON(w, ins)
		return nil
	}
	printInstrumentsTable(w, ins)
	return nil
}

func (c *command) Health(ctx context.Context, w io.Writer, f OutputFlags) error {
	var health map[string]client.Health
	if f.APIUrl != "" {
		cl, err := remoteClient(f.RemoteFlags)
		if err != nil {
			return err
		}
		if health, err = cl.Health(ctx); err != nil {
			return err
		}
	} else {
		err := c.withOrchestra(ctx, func(o *orchestral.Orchestra) error {
			health = toClientHealth(o.HealthCheck())
			return nil
		})
		if err != nil {
			return err
		}
	}
	if f.JSON {
		printJSON(w, health)
		return nil
	}
	printHealthTable(w, health)
	return nil
}
