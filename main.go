package main

import (
	"github.com/korecekm/concread/cmd"
)

func main() {
	cmd.Execute()
}
