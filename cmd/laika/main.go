package main

import (
	laika "github.com/doismellburning/laika/src"
)

func main() {
	laika.LaikaMain()
}
