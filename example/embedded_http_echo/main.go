package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/loykin/orchestral"
)

// Mounts the orchestral API inside an Echo server next to the host application's own routes.
func main() {
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "/api"
	}

	cfg := orchestral.DefaultConfig()
	cfg.Environment = "demo"
	cfg.Program = "sleep"
	cfg.Performances = map[string]map[string]orchestral.Performance{
		"demo": {"napper": {Command: "300", Performers: 2}},
	}

	ctx := context.Background()
	o, err := orchestral.Open(ctx, cfg, orchestral.Options{Store: orchestral.NewMemoryStore()})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = o.Close() }()

	// Start the demo performance so it shows up in /status (2 performers)
	if err := o.Conduct(ctx, "napper"); err != nil {
		log.Fatal(err)
	}
	defer o.Pause(context.Background(), "")

	e := echo.New()
	h := orchestral.NewRouter(o.Conductor, base).Handler()
	e.Any(base, echo.WrapHandler(h))
	e.Any(base+"/*", echo.WrapHandler(h))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "host application; orchestral API under "+base)
	})

	log.Println("starting echo server on :8080 with base", base)
	if err := e.Start(":8080"); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Print(err)
	}
}
