package main

import (
	"context"
	"dgtscraper/cmd/dgtscraper/commands"
	"dgtscraper/internal/components/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext(context.Background())
	commands.ExecuteContext(ctx)
}
