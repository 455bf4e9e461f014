package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/driftspace/tradepost/internal/client"
	"github.com/driftspace/tradepost/internal/config"
)

// Seed a running server with demo listings through the trading API client.
func main() {
	ctx := context.Background()

	resolver := config.NewResolver(config.Options{})
	cfg, err := resolver.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	c := client.NewFromConfig(cfg)

	// First check if the marketplace already has listings
	page, err := c.FetchListings(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch listings: %v", err)
	}
	if page.Total > 0 {
		fmt.Printf("Marketplace already has %d active listings. No need to seed.\n", page.Total)
		os.Exit(0)
	}

	demo := []client.CreateListingRequest{
		{SellerID: "trader1", ItemType: "scrap_metal", ItemName: "Scrap Metal", Quantity: 50, UnitPrice: 4},
		{SellerID: "trader1", ItemType: "ai_component", ItemName: "AI Component", Description: "Salvaged, lightly corrupted", Quantity: 3, UnitPrice: 120},
		{SellerID: "trader2", ItemType: "bio_matter", ItemName: "Bio Matter", Quantity: 20, UnitPrice: 9},
		{SellerID: "trader2", ItemType: "broken_satellite", ItemName: "Broken Satellite", Quantity: 1, UnitPrice: 350},
	}

	for _, req := range demo {
		listing, err := c.CreateListing(ctx, req)
		if err != nil {
			log.Fatalf("Failed to create listing %s: %v", req.ItemType, err)
		}
		fmt.Printf("Created listing %s: %dx %s @ %.0f\n",
			listing.ID, listing.Quantity, listing.ItemType, listing.UnitPrice)
	}

	fmt.Printf("Seeded %d listings.\n", len(demo))
}
