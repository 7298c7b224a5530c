package matcher

// backronymWords seeds new IR sets. Short, common, and letter-diverse words
// work best; words with repeated rare letters make the race frustrating.
var backronymWords = []string{
	"able", "acid", "aged", "also", "area", "army", "away",
	"back", "band", "bank", "base", "bath", "bear", "beat", "bell", "belt",
	"bird", "blow", "blue", "boat", "body", "bomb", "bond", "bone", "book",
	"born", "both", "bowl", "burn", "bush", "busy",
	"cake", "calm", "camp", "card", "care", "case", "cash", "cast", "cell",
	"chat", "chip", "city", "club", "coal", "coat", "code", "cold", "cook",
	"cool", "cope", "core", "cost", "crew", "crop",
	"dark", "data", "date", "dawn", "deal", "dear", "debt", "deep", "desk",
	"dial", "diet", "dish", "dock", "door", "dose", "down", "draw", "dream",
	"drum", "dual", "dust", "duty",
	"each", "earn", "ease", "east", "easy", "edge", "exit",
	"face", "fact", "fail", "fair", "fall", "farm", "fast", "fate", "fear",
	"feed", "feel", "film", "find", "fine", "fire", "firm", "fish", "flat",
	"flow", "food", "foot", "form", "fort", "free", "fuel", "full", "fund",
	"gain", "game", "gate", "gear", "gift", "girl", "give", "glad", "goal",
	"gold", "golf", "gray", "grew", "grow", "gulf",
	"hair", "half", "hall", "hand", "hang", "hard", "harm", "hate", "head",
	"hear", "heat", "held", "hell", "help", "here", "hero", "high", "hill",
	"hold", "hole", "holy", "home", "hope", "host", "hour", "huge", "hunt",
	"idea", "inch", "iron", "item",
	"jazz", "join", "jump", "jury", "just",
	"keen", "keep", "kick", "kind", "king", "knee", "knew", "know",
	"lack", "lake", "land", "lane", "last", "late", "lead", "left", "less",
	"life", "lift", "like", "line", "link", "list", "live", "load", "loan",
	"lock", "long", "look", "lord", "lose", "loss", "lost", "loud", "love",
	"luck",
	"made", "mail", "main", "make", "mark", "mask", "mass", "meal", "mean",
	"meat", "menu", "mild", "mile", "milk", "mind", "mine", "miss", "mode",
	"mood", "moon", "more", "most", "move", "much", "must",
	"name", "navy", "near", "neat", "neck", "need", "news", "next", "nice",
	"nine", "none", "nose", "note",
	"once", "only", "onto", "open", "oval", "over",
	"pace", "pack", "page", "pain", "pair", "palm", "park", "part", "pass",
	"past", "path", "peak", "pick", "pile", "pine", "pink", "plan", "play",
	"plot", "plus", "pool", "port", "post", "pull", "pure", "push",
	"race", "rail", "rain", "rank", "rare", "rate", "read", "real", "rear",
	"rely", "rent", "rest", "rice", "rich", "ride", "ring", "rise", "risk",
	"road", "rock", "role", "roll", "roof", "room", "root", "rope", "rose",
	"rule", "rush",
	"safe", "sail", "salt", "sand", "save", "seal", "seat", "seed", "seek",
	"self", "sell", "send", "shop", "shot", "show", "sick", "side", "sign",
	"silk", "sing", "site", "size", "skin", "slip", "slow", "snow", "soft",
	"soil", "sold", "sole", "song", "soon", "sort", "soul", "spin", "spot",
	"star", "stay", "step", "stop", "such", "suit", "sure", "swim",
	"tale", "talk", "tall", "tank", "tape", "task", "team", "tell", "tend",
	"term", "test", "text", "then", "thin", "tide", "tidy", "tier", "time",
	"tiny", "told", "toll", "tone", "tool", "tour", "town", "trap", "tree",
	"trip", "true", "tune", "turn", "twin",
	"unit", "upon", "used", "user",
	"vary", "vast", "very", "view", "vote",
	"wage", "wait", "wake", "walk", "wall", "want", "warm", "wash", "wave",
	"weak", "wear", "week", "well", "west", "what", "when", "wide", "wild",
	"will", "wind", "wine", "wing", "wise", "wish", "wolf", "wood", "wool",
	"word", "work", "yard", "year", "zero", "zone",
}
