package agent

import (
	"fmt"
	"time"
)

func generateAskID() string {
	return fmt.Sprintf("ask_%d", time.Now().UnixNano())
}
