package agent

import "fmt"

// Inline markers written into the response text around tool activity.

func toolAnnotation(name string, pretty []byte) string {
	return fmt.Sprintf("\n\n🔧 **Executing Tool: %s**\n```json\n%s\n```\n", name, pretty)
}

func errorAnnotation(name string, err error) string {
	return fmt.Sprintf("\n\n❌ **Error executing %s:** %v\n", name, err)
}

func capAnnotation(rounds int) string {
	return fmt.Sprintf("\n\n⚠️ Stopped after %d tool rounds.\n", rounds)
}
