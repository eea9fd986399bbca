package fakeapi

import "context"

func withUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func userFrom(ctx context.Context) User {
	u, _ := ctx.Value(ctxKey{}).(User)
	return u
}

// DefaultBooks is the catalogue served when New is called without books.
func DefaultBooks() []Book {
	return []Book{
		{ID: "B001", Title: "The Hobbit", Author: "J. R. R. Tolkien", PageCount: 310, Publisher: "George Allen & Unwin",
			Synopsis: "Bilbo Baggins is swept into a quest to reclaim a dwarven kingdom."},
		{ID: "B002", Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", PageCount: 286, Publisher: "Ace Books",
			Synopsis: "An envoy visits a planet whose people have no fixed sex."},
		{ID: "B003", Title: "Dune", Author: "Frank Herbert", PageCount: 412, Publisher: "Chilton Books",
			Synopsis: "A noble family is handed control of the desert planet Arrakis."},
		{ID: "B004", Title: "A Wizard of Earthsea", Author: "Ursula K. Le Guin", PageCount: 183, Publisher: "Parnassus Press",
			Synopsis: "A young mage releases a shadow and must hunt it down."},
		{ID: "B005", Title: "Neuromancer", Author: "William Gibson", PageCount: 271, Publisher: "Ace Books",
			Synopsis: "A washed-up hacker is hired for one last job."},
		{ID: "B006", Title: "The Name of the Wind", Author: "Patrick Rothfuss", PageCount: 662, Publisher: "DAW Books",
			Synopsis: "Kvothe tells the story of how he became a legend."},
	}
}
