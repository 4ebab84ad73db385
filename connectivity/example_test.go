package connectivity_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hazyhaar/triage/connectivity"
)

func Example() {
	router := connectivity.New()

	install := func(r *connectivity.Router) error {
		r.RegisterLocal("triage", func(ctx context.Context, payload []byte) ([]byte, error) {
			return []byte(`{"ok":true}`), nil
		})
		return nil
	}

	// The service is not registered yet: the first call installs it.
	call := connectivity.WithReinstall(router, "triage", install, nil)
	resp, err := call(context.Background(), []byte(`{"action":"replay_link"}`))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(resp))
	fmt.Println(router.Services())
	// Output:
	// {"ok":true}
	// [triage]
}
