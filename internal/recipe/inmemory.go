package recipe

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process catalog for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	recipes map[string]Recipe
}

func NewInMemoryStore(seed ...Recipe) *InMemoryStore {
	s := &InMemoryStore{recipes: make(map[string]Recipe, len(seed))}
	for _, r := range seed {
		s.recipes[r.ID] = r
	}
	return s
}

func (s *InMemoryStore) List(_ context.Context) ([]Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Recipe, 0, len(s.recipes))
	for _, r := range s.recipes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipes[id]
	if !ok {
		return Recipe{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) Put(_ context.Context, r Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes[r.ID] = r
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func seedRecipes() []Recipe {
	return []Recipe{
		{
			ID:          "pasta-carbonara",
			Title:       "Pasta Carbonara",
			Description: "The Roman classic: guanciale, eggs, pecorino. No cream, ever.",
			Servings:    2,
			TotalTime:   25 * time.Minute,
			Ingredients: []Ingredient{
				{Name: "spaghetti", Quantity: "200g"},
				{Name: "guanciale", Quantity: "100g"},
				{Name: "egg yolks", Quantity: "3"},
				{Name: "pecorino romano, grated", Quantity: "50g"},
				{Name: "black pepper, freshly cracked"},
			},
			Steps: []Step{
				{Text: "Bring a large pot of water to a boil and salt it lightly; the guanciale and pecorino carry a lot of salt already."},
				{Text: "Cut the guanciale into small strips and render it in a cold pan over medium heat until crisp.", DurationHint: 8 * time.Minute},
				{Text: "Whisk the yolks with the pecorino and plenty of black pepper into a thick paste."},
				{Text: "Cook the spaghetti until just shy of al dente.", DurationHint: 9 * time.Minute},
				{Text: "Off the heat, toss the pasta with the guanciale, then fold in the egg mixture, loosening with pasta water until glossy."},
				{Text: "Plate immediately with more pecorino and pepper on top."},
			},
		},
		{
			ID:          "shakshuka",
			Title:       "Shakshuka",
			Description: "Eggs poached in a spiced tomato and pepper sauce. One pan, big flavor.",
			Servings:    2,
			TotalTime:   30 * time.Minute,
			Ingredients: []Ingredient{
				{Name: "olive oil", Quantity: "2 tbsp"},
				{Name: "onion, diced", Quantity: "1"},
				{Name: "red bell pepper, sliced", Quantity: "1"},
				{Name: "garlic cloves, sliced", Quantity: "3"},
				{Name: "ground cumin", Quantity: "1 tsp"},
				{Name: "sweet paprika", Quantity: "1 tsp"},
				{Name: "crushed tomatoes", Quantity: "400g can"},
				{Name: "eggs", Quantity: "4"},
				{Name: "feta and fresh parsley, to finish"},
			},
			Steps: []Step{
				{Text: "Soften the onion and pepper in olive oil over medium heat.", DurationHint: 6 * time.Minute},
				{Text: "Add garlic, cumin and paprika and cook until fragrant.", DurationHint: time.Minute},
				{Text: "Pour in the tomatoes, season, and simmer until slightly thickened.", DurationHint: 10 * time.Minute},
				{Text: "Make four wells in the sauce and crack an egg into each."},
				{Text: "Cover and cook until the whites are set but the yolks are still soft.", DurationHint: 7 * time.Minute},
				{Text: "Finish with feta and parsley; serve straight from the pan with bread."},
			},
		},
	}
}
