package system

import "fmt"

var Name = "kube-usage-agent"
var Version = "<unset>"
var Commit = "<unset>"
var Repository = "https://github.com/telekom/kube-usage-agent"

func PrettyInfo() string {
	return fmt.Sprintf(`
===========================================================================
Application: %s
Version %s
GOTO: %s/tree/%s
===========================================================================
`, Name, Version, Repository, Commit)
}
