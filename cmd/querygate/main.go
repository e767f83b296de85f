// Command querygate is a permission-aware query gateway for SQL databases.
package main

import "github.com/Sentinel-Gate/querygate/cmd/querygate/cmd"

func main() {
	cmd.Execute()
}
