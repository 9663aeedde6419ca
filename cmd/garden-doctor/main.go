// @title Garden Doctor API
// @version 1.0
// @description Plant photo diagnosis service.
// @BasePath /
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"garden-doctor-go/internal/bootstrap"
	platformconfig "garden-doctor-go/internal/platform/config"
)

func main() {
	configPath := flag.String("config", platformconfig.DefaultPath, "path to the YAML config file")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [引导] 开始启动 garden-doctor...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	loader := platformconfig.NewLoader().WithPath(*configPath)
	if err := bootstrap.Run(context.Background(), loader); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "garden-doctor failed: %v\n", err)
		os.Exit(1)
	}
}
