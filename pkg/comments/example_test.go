package comments_test

import (
	"fmt"
	"time"

	"github.com/BoardAI/catalysst/pkg/comments"
)

func ExampleRenderer_Success() {
	r := comments.New()
	fmt.Print(r.Success("pr-12", map[string]string{
		"Web": "https://pr-12.example.com",
		"Api": "",
	}, false))
	// Output:
	// ✅ **Deployment Successful** for the **`pr-12`** stage.
	//
	// | **Name**              |  **Status**    |  **Value**         |
	// |-----------------------|----------------|--------------------|
	// | **Api** | ⏺️ | Deployment Not Available |
	// | **Web** | ✅ | [Visit Deployment](https://pr-12.example.com) |
}

func ExampleRenderer_Failure() {
	clock := func() time.Time { return time.Date(2024, 1, 9, 9, 30, 0, 0, time.UTC) }
	r := comments.New(comments.WithClock(clock))
	fmt.Print(r.Failure("procuro", "staging", "https://github.com/acme/shop/actions/runs/42"))
	// Output:
	// ❌ **Deployment Failed** for the **`staging`** stage.
	//
	// | **Key**           | **Value**                                      |
	// |-------------------|------------------------------------------------|
	// | **View Logs**     | [Github Actions](https://github.com/acme/shop/actions/runs/42) |
	// | **Console URL**   | https://console.sst.dev/procuro |
	// | **Updated at**    | January 9, 2024 9:30am (UTC) |
	//
	// > The deployment process failed. Please check the logs for more information.
}
