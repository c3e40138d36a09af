// Package classify maps wallet balances to Ocean-Creature tiers and
// transfers between known wallets to buy/sell pressure labels. Every data
// path in the service classifies through the same Classifier so that holder
// aggregates never depend on which source answered.
package classify
