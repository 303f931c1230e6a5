package main

import (
	"ppbverify-backend/cmd/verify-cli/commands"
	"ppbverify-backend/lib/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()
	commands.ExecuteContext(ctx)
}
