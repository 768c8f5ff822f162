// Command webmonitor watches registered web pages for meaningful changes.
package main

import (
	"github.com/JakeFAU/webmonitor/cmd"
)

func main() {
	cmd.Execute()
}
