package main

import (
	"github.com/galdor/go-service/pkg/service"
)

func main() {
	service.Run("simnet", "a simulated message-passing network", NewService())
}
