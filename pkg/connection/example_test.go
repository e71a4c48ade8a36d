package connection_test

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sblgo/sbl/internal/fakesdb"
	"github.com/sblgo/sbl/pkg/connection"
)

func ExampleEndpoint() {
	fmt.Println(connection.Endpoint("localhost", 8000, false))
	fmt.Println(connection.Endpoint("db.example.com", 443, true))
	// Output:
	// ws://localhost:8000/rpc
	// wss://db.example.com:443/rpc
}

func ExampleQueryFirst() {
	server := fakesdb.NewServer("127.0.0.1:0")
	if err := server.Start(); err != nil {
		panic(err)
	}
	defer server.Stop() //nolint:errcheck

	u, _ := url.Parse(server.URL())
	cfg := connection.NewConfig(u)

	ctx := context.Background()
	c, err := connection.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer c.Close(ctx) //nolint:errcheck

	type user struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	users, err := connection.QueryFirst[[]user](ctx, c, "CREATE user:tobie SET name = $name;", map[string]any{"name": "Tobie"})
	if err != nil {
		panic(err)
	}
	fmt.Println(users[0].ID, users[0].Name)
	// Output: user:tobie Tobie
}
