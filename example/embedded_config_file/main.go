package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/loykin/orchestral"
)

// Loads a TOML config file, conducts every performance of its environment
// and prints the resulting status.
func main() {
	cfgPath := "orchestral.toml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := orchestral.LoadConfig(cfgPath)
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	o, err := orchestral.Open(ctx, cfg, orchestral.Options{})
	if err != nil {
		panic(err)
	}
	defer func() { _ = o.Close() }()

	if err := o.Conduct(ctx, ""); err != nil {
		panic(err)
	}
	b, _ := json.MarshalIndent(o.Status(ctx), "", "  ")
	fmt.Println(string(b))
	fmt.Println("Run `orchestral pause --config", cfgPath+"` to stop them.")
}
