package cmd

import (
	"fmt"
)

const banner = `
                _             _
   ___ ___ _ __| |_ _ __ ___ | | __ _ _   _
  / __/ _ \ '__| __| '__/ _ \| |/ _` + "`" + ` | | | |
 | (_|  __/ |  | |_| | |  __/| | (_| | |_| |
  \___\___|_|   \__|_|  \___||_|\__,_|\__, |
                                      |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Certificate Issuance Coordinator - Version %s\x1b[0m\n\n", Version)
}
