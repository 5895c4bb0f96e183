package httputil_test

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/libbyhq/libby/pkg/httputil"
)

func ExampleCache() {
	dir := filepath.Join(os.TempDir(), "libby-example")
	cache, err := httputil.NewCache(dir, 24*time.Hour)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer os.RemoveAll(dir)

	poms := cache.Namespace("pom:")
	if err := poms.SetBytes("com.example:lib:1.0", []byte("<project/>")); err != nil {
		fmt.Println("Error:", err)
		return
	}

	if data, ok, err := poms.GetBytes("com.example:lib:1.0"); ok && err == nil {
		fmt.Println(string(data))
	}
	// Output:
	// <project/>
}
