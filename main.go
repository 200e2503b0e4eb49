// Command linkcheck bulk-checks LinkedIn gift links.
package main

import "github.com/JakeFAU/linkcheck/cmd"

func main() {
	cmd.Execute()
}
