package main

import (
	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/cli"
	_ "github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns/providers"
)

func main() {
	cli.Execute()
}
