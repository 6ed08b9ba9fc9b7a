// ./main.go
package main

import (
	"github.com/xkilldash9x/carlot/cmd"
)

func main() {
	cmd.Execute()
}
