package root

import (
	"github.com/hostwerk/cloudpod/apps/cli/cmd/queue"
	"github.com/hostwerk/cloudpod/apps/cli/cmd/quota"
)

func init() {
	Root().AddCommand(quota.Command())
	Root().AddCommand(queue.Command())
}
