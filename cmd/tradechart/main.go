// Command tradechart serves interactive candlestick charts with indicator
// overlays over HTTP and WebSocket, and renders or exports them offline.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
